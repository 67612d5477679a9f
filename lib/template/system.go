// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// System token names.
const (
	TokenHostname     = "rhq.system.hostname"
	TokenOSName       = "rhq.system.os.name"
	TokenOSVersion    = "rhq.system.os.version"
	TokenOSType       = "rhq.system.os.type"
	TokenArchitecture = "rhq.system.architecture"
	TokenCPUCount     = "rhq.system.cpu.count"
)

// NewWithSystemInfo returns an engine pre-populated with host facts.
// Facts that cannot be determined are omitted rather than set to
// placeholder values, so templates referencing them stay unresolved
// and visible.
func NewWithSystemInfo() *Engine {
	engine := New()
	engine.SetAll(systemTokens())
	return engine
}

func systemTokens() map[string]string {
	tokens := map[string]string{
		TokenOSType:       runtime.GOOS,
		TokenArchitecture: runtime.GOARCH,
		TokenCPUCount:     strconv.Itoa(runtime.NumCPU()),
	}

	if hostname, err := os.Hostname(); err == nil {
		tokens[TokenHostname] = hostname
	}

	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil {
		tokens[TokenOSName] = unix.ByteSliceToString(uname.Sysname[:])
		tokens[TokenOSVersion] = unix.ByteSliceToString(uname.Release[:])
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		return tokens
	}
	for _, networkInterface := range interfaces {
		prefix := "rhq.system.interfaces." + networkInterface.Name + "."
		if hardware := networkInterface.HardwareAddr.String(); hardware != "" {
			tokens[prefix+"mac"] = strings.ToUpper(hardware)
		}
		addresses, err := networkInterface.Addrs()
		if err != nil {
			continue
		}
		for _, address := range addresses {
			ipNet, ok := address.(*net.IPNet)
			if !ok {
				continue
			}
			if ipv4 := ipNet.IP.To4(); ipv4 != nil {
				if _, exists := tokens[prefix+"address"]; !exists {
					tokens[prefix+"address"] = ipv4.String()
				}
			} else if _, exists := tokens[prefix+"address6"]; !exists {
				tokens[prefix+"address6"] = ipNet.IP.String()
			}
		}
	}
	return tokens
}
