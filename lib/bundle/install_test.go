// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/bundle/lib/audit"
	"github.com/bureau-foundation/bundle/lib/clock"
	"github.com/bureau-foundation/bundle/lib/deploy"
	"github.com/bureau-foundation/bundle/lib/testutil"
)

// installFixture is a bundle base directory, a staging directory for
// downloads, and a deploy directory under one temporary root.
type installFixture struct {
	t         *testing.T
	base      string
	staging   string
	deployDir string
}

func newInstallFixture(t *testing.T) *installFixture {
	t.Helper()
	root := t.TempDir()
	return &installFixture{
		t:         t,
		base:      filepath.Join(root, "bundle"),
		staging:   filepath.Join(root, "staging"),
		deployDir: filepath.Join(root, "deploy"),
	}
}

// run returns a run of bundle "app" at version with its own audit
// recorder.
func (f *installFixture) run(id int, version string) (*Run, *audit.Recorder) {
	recorder := &audit.Recorder{}
	run := NewRun()
	run.DeploymentID = id
	run.BundleName = "app"
	run.BundleVersion = version
	run.BaseDir = f.base
	run.StagingDir = f.staging
	run.DeployDir = f.deployDir
	run.Audit = recorder
	run.Clock = clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return run, recorder
}

func (f *installFixture) deployed() map[string]string {
	f.t.Helper()
	return testutil.ReadTree(f.t, f.deployDir, deploy.MetadataDirName)
}

func requireSummaries(t *testing.T, recorder *audit.Recorder, want []string) {
	t.Helper()
	if got := recorder.Summaries(); !reflect.DeepEqual(got, want) {
		t.Errorf("audit summaries:\n got: %q\nwant: %q", got, want)
	}
}

func requirePhase(t *testing.T, err error, want Phase) *DeployError {
	t.Helper()
	var deployErr *DeployError
	if !errors.As(err, &deployErr) {
		t.Fatalf("error %v (%T) is not a *DeployError", err, err)
	}
	if deployErr.Phase != want {
		t.Errorf("DeployError.Phase = %q, want %q (error: %v)", deployErr.Phase, want, err)
	}
	return deployErr
}

func TestInstallWithoutDeployablesTouchesNothing(t *testing.T) {
	f := newInstallFixture(t)
	testutil.WriteTree(t, f.base, map[string]string{"keep": "x"})

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	t.Cleanup(server.Close)

	run, recorder := f.run(1, "1.0")
	run.Targets = map[string]Target{"pre": {Commands: []string{"touch pre.marker"}}}
	unit := &DeploymentUnit{Name: "empty", PreinstallTarget: "pre", Compliance: deploy.Full}

	err := unit.Install(context.Background(), run, false, true)
	if !errors.Is(err, ErrNoDeployables) {
		t.Fatalf("Install() = %v, want ErrNoDeployables", err)
	}
	requirePhase(t, err, PhaseValidate)

	testutil.RequireNoFile(t, filepath.Join(f.base, "pre.marker"))
	testutil.RequireNoFile(t, f.deployDir)
	testutil.RequireNoFile(t, f.staging)
	if hits.Load() != 0 {
		t.Errorf("server received %d requests", hits.Load())
	}
	requireSummaries(t, recorder, []string{"Error Occurred"})
}

func TestInstallFullModeAuditSequence(t *testing.T) {
	f := newInstallFixture(t)
	testutil.WriteTree(t, f.base, map[string]string{
		"files/app.conf": "port=1",
		"files/bin/run":  "#!/bin/sh\n",
	})

	run, recorder := f.run(1, "1.0")
	run.Targets = map[string]Target{
		"pre": {
			Commands: []string{`printf '%s' "$RHQ_DEPLOY_DIR" > pre.marker`},
		},
		"post": {
			Commands: []string{`cat "$RHQ_DEPLOY_DIR/app.conf" > post.marker`, `printf '%s' "$GREETING" >> post.marker`},
			Env:      map[string]string{"GREETING": "-done"},
		},
	}
	unit := &DeploymentUnit{
		Name:              "app",
		Compliance:        deploy.Full,
		PreinstallTarget:  "pre",
		PostinstallTarget: "post",
	}
	unit.AddFile(FileEntry{Source: "files/app.conf"})
	unit.AddFile(FileEntry{Source: "files/bin/run", Destination: "bin/run"})

	if err := unit.Install(context.Background(), run, false, false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	requireSummaries(t, recorder, []string{
		"Pre-Install Started",
		"Pre-Install Finished",
		"Managing Top Level Deployment Directory",
		"Deployer Started",
		"Deployer Finished",
		"Post-Install Started",
		"Post-Install Finished",
	})
	for _, event := range recorder.Events() {
		if event.RunID != run.RunID {
			t.Errorf("event %q has run id %q, want %q", event.Summary, event.RunID, run.RunID)
		}
	}
	if detail := recorder.Events()[4].Detail; !strings.Contains(detail, "added=[app.conf bin/run]") {
		t.Errorf("Deployer Finished detail = %q, want the added files", detail)
	}

	if got, want := f.deployed(), map[string]string{"app.conf": "port=1", "bin/run": "#!/bin/sh\n"}; !reflect.DeepEqual(got, want) {
		t.Errorf("deployed tree = %v, want %v", got, want)
	}
	testutil.RequireFile(t, filepath.Join(f.base, "pre.marker"), f.deployDir)
	testutil.RequireFile(t, filepath.Join(f.base, "post.marker"), "port=1-done")
	if got := run.Differences.Added(); !reflect.DeepEqual(got, []string{"app.conf", "bin/run"}) {
		t.Errorf("Added = %v", got)
	}
}

func TestInstallRealizesTemplateTokens(t *testing.T) {
	f := newInstallFixture(t)
	testutil.WriteTree(t, f.base, map[string]string{
		"app.conf": "owner=@@rhq.tag.owner@@ port=${listen.port} dir=@@rhq.deploy.dir@@ keep=@@unknown@@",
		"raw.txt":  "port=${listen.port}",
	})

	run, _ := f.run(1, "1.0")
	run.UserProperties = map[string]string{"owner": "ops"}
	run.Configuration = map[string]string{"listen.port": "8080"}
	unit := &DeploymentUnit{Name: "app"}
	unit.AddFile(FileEntry{Source: "app.conf", Replace: true})
	unit.AddFile(FileEntry{Source: "raw.txt"})

	if err := unit.Install(context.Background(), run, false, false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := map[string]string{
		"app.conf": "owner=ops port=8080 dir=" + f.deployDir + " keep=@@unknown@@",
		"raw.txt":  "port=${listen.port}",
	}
	if got := f.deployed(); !reflect.DeepEqual(got, want) {
		t.Errorf("deployed tree:\n got: %v\nwant: %v", got, want)
	}
	if got := run.Differences.Realized(); !reflect.DeepEqual(got, []string{"app.conf"}) {
		t.Errorf("Realized = %v, want [app.conf]", got)
	}
}

func TestInstallMissingTarget(t *testing.T) {
	for _, hook := range []string{"pre", "post"} {
		t.Run(hook, func(t *testing.T) {
			f := newInstallFixture(t)
			testutil.WriteTree(t, f.base, map[string]string{"a": "1"})

			run, recorder := f.run(1, "1.0")
			unit := &DeploymentUnit{Name: "app"}
			unit.AddFile(FileEntry{Source: "a"})
			var want []string
			var phase Phase
			if hook == "pre" {
				unit.PreinstallTarget = "missing"
				phase = PhasePreinstall
				want = []string{"Pre-Install Started", "Pre-Install Failure", "Error Occurred"}
			} else {
				unit.PostinstallTarget = "missing"
				phase = PhasePostinstall
				want = []string{"Deployer Started", "Deployer Finished",
					"Post-Install Started", "Post-Install Failure", "Error Occurred"}
			}

			err := unit.Install(context.Background(), run, false, false)
			if !errors.Is(err, ErrTargetNotFound) {
				t.Fatalf("Install() = %v, want ErrTargetNotFound", err)
			}
			requirePhase(t, err, phase)
			if !strings.Contains(err.Error(), "(missing)") {
				t.Errorf("error %q does not name the target", err)
			}
			requireSummaries(t, recorder, want)
			if hook == "pre" {
				testutil.RequireNoFile(t, f.deployDir)
			}
		})
	}
}

func TestInstallFailingTargetStopsDeployment(t *testing.T) {
	f := newInstallFixture(t)
	testutil.WriteTree(t, f.base, map[string]string{"a": "1"})

	run, _ := f.run(1, "1.0")
	run.Targets = map[string]Target{"pre": {Commands: []string{"echo broken >&2; exit 3", "touch never"}}}
	unit := &DeploymentUnit{Name: "app", PreinstallTarget: "pre"}
	unit.AddFile(FileEntry{Source: "a"})

	err := unit.Install(context.Background(), run, false, false)
	requirePhase(t, err, PhasePreinstall)
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not carry the command's stderr", err)
	}
	testutil.RequireNoFile(t, filepath.Join(f.base, "never"))
	testutil.RequireNoFile(t, f.deployDir)
}

func TestInstallDownloadsURLContent(t *testing.T) {
	f := newInstallFixture(t)
	archivePath := filepath.Join(t.TempDir(), "site.zip")
	testutil.WriteZip(t, archivePath, map[string]string{
		"www/index.html": "<h1>@@rhq.tag.title@@</h1>",
		"www/logo.txt":   "@@rhq.tag.title@@",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/dist/app.conf", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("dir=@@rhq.deploy.dir@@"))
	})
	mux.HandleFunc("/dist/site.zip", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, archivePath)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	run, recorder := f.run(1, "1.0")
	run.UserProperties = map[string]string{"title": "Hello"}
	unit := &DeploymentUnit{Name: "app"}
	unit.AddURLFile(URLFileEntry{URL: server.URL + "/dist/app.conf", DestinationDir: "conf", Replace: true})
	unit.AddURLArchive(URLArchiveEntry{URL: server.URL + "/dist/site.zip", ReplacePattern: `.*\.html`})

	if err := unit.Install(context.Background(), run, false, false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := map[string]string{
		"conf/app.conf":  "dir=" + f.deployDir,
		"www/index.html": "<h1>Hello</h1>",
		"www/logo.txt":   "@@rhq.tag.title@@",
	}
	if got := f.deployed(); !reflect.DeepEqual(got, want) {
		t.Errorf("deployed tree:\n got: %v\nwant: %v", got, want)
	}
	testutil.RequireNoFile(t, run.downloadDir())
	if got := run.Downloads.Files(); len(got) != 0 {
		t.Errorf("downloads still registered after install: %v", got)
	}
	requireSummaries(t, recorder, []string{
		"File Download Started", "File Download Finished",
		"File Download Started", "File Download Finished",
		"Deployer Started", "Deployer Finished",
	})
	if long := recorder.Events()[1].Long; !strings.Contains(long, "[22] bytes") {
		t.Errorf("download finished long = %q, want the byte count", long)
	}
}

func TestInstallDownloadFailureRemovesStagedFiles(t *testing.T) {
	f := newInstallFixture(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/ok.txt", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	run, recorder := f.run(1, "1.0")
	unit := &DeploymentUnit{Name: "app"}
	unit.AddURLFile(URLFileEntry{URL: server.URL + "/ok.txt", Destination: "conf/ok.txt"})
	unit.AddURLFile(URLFileEntry{URL: server.URL + "/broken", Destination: "broken.txt"})

	err := unit.Install(context.Background(), run, false, false)
	requirePhase(t, err, PhaseDownload)
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q does not report the HTTP status", err)
	}

	testutil.RequireNoFile(t, run.downloadDir())
	testutil.RequireNoFile(t, f.deployDir)
	if files := run.Downloads.Files(); len(files) != 0 {
		t.Errorf("downloads still registered: %v", files)
	}
	requireSummaries(t, recorder, []string{
		"File Download Started", "File Download Finished",
		"File Download Started", "File Download Failed",
		"Error Occurred",
	})
}

func TestInstallDuplicateDestinationAcrossLocalAndURL(t *testing.T) {
	for _, staging := range []string{"separate", "base dir"} {
		t.Run(staging, func(t *testing.T) {
			f := newInstallFixture(t)
			testutil.WriteTree(t, f.base, map[string]string{"app.conf": "local"})

			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				requests.Add(1)
				w.Write([]byte("remote"))
			}))
			t.Cleanup(server.Close)

			run, recorder := f.run(1, "1.0")
			if staging == "base dir" {
				run.StagingDir = ""
			}
			unit := &DeploymentUnit{Name: "app"}
			unit.AddFile(FileEntry{Source: "app.conf"})
			unit.AddURLFile(URLFileEntry{URL: server.URL + "/remote.conf", Destination: "app.conf"})

			err := unit.Install(context.Background(), run, false, false)
			if !errors.Is(err, ErrDuplicateDestination) {
				t.Fatalf("Install() = %v, want ErrDuplicateDestination", err)
			}
			requirePhase(t, err, PhaseValidate)
			if got := requests.Load(); got != 0 {
				t.Errorf("server saw %d requests, want none", got)
			}
			testutil.RequireFile(t, filepath.Join(f.base, "app.conf"), "local")
			testutil.RequireNoFile(t, f.deployDir)
			requireSummaries(t, recorder, []string{"Error Occurred"})
		})
	}
}

func TestInstallStagingInBaseDirKeepsBundleSources(t *testing.T) {
	f := newInstallFixture(t)
	testutil.WriteTree(t, f.base, map[string]string{"conf/x": "local"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("remote"))
	}))
	t.Cleanup(server.Close)

	run, _ := f.run(1, "1.0")
	run.StagingDir = ""
	unit := &DeploymentUnit{Name: "app"}
	unit.AddFile(FileEntry{Source: "conf/x", Destination: "etc/x"})
	unit.AddURLFile(URLFileEntry{URL: server.URL + "/x", Destination: "conf/x"})

	if err := unit.Install(context.Background(), run, false, false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := map[string]string{"etc/x": "local", "conf/x": "remote"}
	if got := f.deployed(); !reflect.DeepEqual(got, want) {
		t.Errorf("deployed tree:\n got: %v\nwant: %v", got, want)
	}
	if got := testutil.ReadTree(t, f.base); !reflect.DeepEqual(got, map[string]string{"conf/x": "local"}) {
		t.Errorf("bundle tree after install = %v, want only the untouched source", got)
	}
}

func TestInstallDryRun(t *testing.T) {
	f := newInstallFixture(t)
	testutil.WriteTree(t, f.base, map[string]string{"a": "1"})

	run, recorder := f.run(1, "1.0")
	run.DryRun = true
	run.Targets = map[string]Target{
		"pre":  {Commands: []string{"touch pre.marker"}},
		"post": {Commands: []string{"touch post.marker"}},
	}
	unit := &DeploymentUnit{Name: "app", Compliance: deploy.Full, PreinstallTarget: "pre", PostinstallTarget: "post"}
	unit.AddFile(FileEntry{Source: "a"})

	if err := unit.Install(context.Background(), run, false, true); err != nil {
		t.Fatalf("Install(dry run): %v", err)
	}

	testutil.RequireNoFile(t, f.deployDir)
	testutil.RequireNoFile(t, filepath.Join(f.base, "pre.marker"))
	testutil.RequireNoFile(t, filepath.Join(f.base, "post.marker"))
	requireSummaries(t, recorder, []string{
		"Clean Requested",
		"Pre-Install Started", "Pre-Install Finished",
		"Post-Install Started", "Post-Install Finished",
	})
	if got := run.Differences.Added(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("dry run Added = %v, want [a]", got)
	}
}

func TestInstallRevertRestoresUserEdits(t *testing.T) {
	f := newInstallFixture(t)
	testutil.WriteTree(t, f.base, map[string]string{
		"v1/app.conf": "v1",
		"v2/app.conf": "v2",
	})
	unitFor := func(version string) *DeploymentUnit {
		unit := &DeploymentUnit{Name: "app"}
		unit.AddFile(FileEntry{Source: version + "/app.conf", Destination: "app.conf"})
		return unit
	}

	run, _ := f.run(1, "1.0")
	if err := unitFor("v1").Install(context.Background(), run, false, false); err != nil {
		t.Fatalf("Install v1: %v", err)
	}
	testutil.WriteTree(t, f.deployDir, map[string]string{"app.conf": "edited"})

	run, _ = f.run(2, "2.0")
	if err := unitFor("v2").Upgrade(context.Background(), run, false, false); err != nil {
		t.Fatalf("Upgrade to v2: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(f.deployDir, "app.conf"), "v2")

	run, recorder := f.run(3, "1.0")
	if err := unitFor("v1").Install(context.Background(), run, true, false); err != nil {
		t.Fatalf("revert: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(f.deployDir, "app.conf"), "edited")
	if len(run.Differences.Restored()) != 1 {
		t.Errorf("Restored = %v, want one entry", run.Differences.Restored())
	}
	if got := recorder.Summaries()[0]; got != "Revert Requested" {
		t.Errorf("first audit event = %q, want Revert Requested", got)
	}

	current, err := deploy.NewMetadata(f.deployDir).Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.DeploymentID != 3 {
		t.Errorf("current deployment id = %d, want 3", current.DeploymentID)
	}
}

func TestInstallSystemService(t *testing.T) {
	f := newInstallFixture(t)
	serviceRoot := t.TempDir()
	testutil.WriteTree(t, f.base, map[string]string{
		"appd.sh":   "#!/bin/sh\nprintf '%s' \"$1\" > \"$(dirname \"$0\")/state\"\n",
		"appd.conf": "HOME=@@rhq.deploy.dir@@",
	})

	run, _ := f.run(1, "1.0")
	unit := &DeploymentUnit{Name: "app"}
	service := &SystemService{
		Name:       "appd",
		ScriptFile: filepath.Join(f.base, "appd.sh"),
		ConfigFile: filepath.Join(f.base, "appd.conf"),
		RootDir:    serviceRoot,
	}
	if err := unit.SetSystemService(service); err != nil {
		t.Fatalf("SetSystemService: %v", err)
	}

	if err := unit.Install(context.Background(), run, false, false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	script := filepath.Join(serviceRoot, "etc", "init.d", "appd")
	info, err := os.Stat(script)
	if err != nil {
		t.Fatalf("installed script: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("script mode = %v, want executable", info.Mode())
	}
	testutil.RequireFile(t, filepath.Join(serviceRoot, "etc", "sysconfig", "appd"), "HOME="+f.deployDir)

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(serviceRoot, "etc", "init.d", "state"), "start")
	if err := unit.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(serviceRoot, "etc", "init.d", "state"), "stop")

	if err := unit.Uninstall(context.Background()); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	testutil.RequireNoFile(t, script)
	testutil.RequireNoFile(t, filepath.Join(serviceRoot, "etc", "sysconfig", "appd"))
}

func TestDeployErrorDetail(t *testing.T) {
	t.Parallel()

	cause := errors.Join(errors.New("first"), errors.New("second"))
	err := &DeployError{Bundle: "app", Version: "1.0", Phase: PhaseDeploy, Cause: cause}
	if got, want := err.Error(), "failed to deploy bundle [app] version [1.0]: first\nsecond"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	detail := err.Detail()
	for _, want := range []string{"first", "second", "  *errors.errorString"} {
		if !strings.Contains(detail, want) {
			t.Errorf("Detail() = %q, missing %q", detail, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("DeployError does not unwrap to its cause")
	}
}
