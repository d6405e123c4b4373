package capability

import (
	"context"
	"strings"
	"testing"
)

// fakeRunner replays canned output for a given binary+args prefix and
// records every invocation, so tests never touch a real pm/am/iptables.
type fakeRunner struct {
	outputs map[string]string
	calls   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	key := strings.Join(call, " ")
	for prefix, out := range f.outputs {
		if strings.HasPrefix(key, prefix) {
			return []byte(out), nil
		}
	}
	return []byte(""), nil
}

func TestInspect(t *testing.T) {
	cases := []struct {
		name       string
		dump       string
		wantSource string
		wantUID    int
	}{
		{
			name:       "known store installer",
			dump:       "userId=10123\ninstallerPackageName=com.android.vending\n",
			wantSource: "play_store",
			wantUID:    10123,
		},
		{
			name:       "fdroid installer",
			dump:       "userId=10200\ninstallerPackageName=org.fdroid.fdroid\n",
			wantSource: "fdroid",
			wantUID:    10200,
		},
		{
			name:       "unknown installer",
			dump:       "userId=10300\ninstallerPackageName=com.some.unknown.store\n",
			wantSource: "unknown",
			wantUID:    10300,
		},
		{
			name:       "null installer, sideload codepath",
			dump:       "userId=10400\ninstallerPackageName=null\ncodePath=/data/app/com.foo-1\n",
			wantSource: "sideload",
			wantUID:    10400,
		},
		{
			name:       "empty installer, system codepath",
			dump:       "userId=1000\ninstallerPackageName=\ncodePath=/system/app/Foo\n",
			wantSource: "system",
			wantUID:    1000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: map[string]string{
				"pm dump com.example.app": tc.dump,
			}}
			cap := &AndroidCapability{Runner: runner}

			info, err := cap.Inspect(context.Background(), "com.example.app")
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if string(info.InstallSource) != tc.wantSource {
				t.Errorf("InstallSource = %q, want %q", info.InstallSource, tc.wantSource)
			}
			if info.UID != tc.wantUID {
				t.Errorf("UID = %d, want %d", info.UID, tc.wantUID)
			}
		})
	}
}

func TestListInstalled(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"pm list packages -3": "package:com.foo\npackage:com.bar\n\n",
	}}
	cap := &AndroidCapability{Runner: runner}

	pkgs, err := cap.ListInstalled(context.Background())
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(pkgs) != 2 || pkgs[0] != "com.foo" || pkgs[1] != "com.bar" {
		t.Errorf("ListInstalled = %v, want [com.foo com.bar]", pkgs)
	}
}

func TestEnforcementActionsUseArgvNotShellString(t *testing.T) {
	runner := &fakeRunner{}
	cap := &AndroidCapability{Runner: runner}
	ctx := context.Background()

	if err := cap.SuspendApp(ctx, "com.example.app"); err != nil {
		t.Fatalf("SuspendApp: %v", err)
	}
	if err := cap.ForceStopApp(ctx, "com.example.app"); err != nil {
		t.Fatalf("ForceStopApp: %v", err)
	}
	if err := cap.RevokePermission(ctx, "com.example.app", "android.permission.CAMERA"); err != nil {
		t.Fatalf("RevokePermission: %v", err)
	}

	want := [][]string{
		{"pm", "suspend", "com.example.app"},
		{"am", "force-stop", "com.example.app"},
		{"pm", "revoke", "com.example.app", "android.permission.CAMERA"},
	}
	if len(runner.calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %v", len(runner.calls), len(want), runner.calls)
	}
	for i, call := range want {
		if strings.Join(runner.calls[i], " ") != strings.Join(call, " ") {
			t.Errorf("call %d = %v, want %v", i, runner.calls[i], call)
		}
	}
}
