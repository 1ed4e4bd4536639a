package environment

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		legal    bool
	}{
		{StatusPending, StatusProvisioning, true},
		{StatusProvisioning, StatusReady, true},
		{StatusProvisioning, StatusFailed, true},
		{StatusReady, StatusUpdating, true},
		{StatusReady, StatusDestroying, true},
		{StatusReady, StatusFailed, true},
		{StatusUpdating, StatusReady, true},
		{StatusUpdating, StatusFailed, true},
		{StatusDestroying, StatusDestroyed, true},
		{StatusDestroying, StatusFailed, true},
		{StatusFailed, StatusDestroying, true},
		{StatusFailed, StatusProvisioning, true},
		{StatusPending, StatusDestroying, true},
		{StatusProvisioning, StatusDestroying, true},
		{StatusUpdating, StatusDestroying, true},
		// illegal
		{StatusPending, StatusReady, false},
		{StatusDestroyed, StatusPending, false},
		{StatusReady, StatusPending, false},
		{StatusPending, StatusPending, false},
	}
	for _, tt := range tests {
		got := CanTransition(tt.from, tt.to)
		if got != tt.legal {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.legal)
		}
	}
}

func TestDeploymentStatusIsTerminal(t *testing.T) {
	if !DeploymentSuccess.IsTerminal() {
		t.Error("SUCCESS should be terminal")
	}
	if !DeploymentFailed.IsTerminal() {
		t.Error("FAILED should be terminal")
	}
	if DeploymentQueued.IsTerminal() {
		t.Error("QUEUED should not be terminal")
	}
	if DeploymentInProgress.IsTerminal() {
		t.Error("IN_PROGRESS should not be terminal")
	}
}
