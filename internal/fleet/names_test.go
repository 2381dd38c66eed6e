package fleet

import (
	"strings"
	"testing"
)

func TestJobServerNameDeterministic(t *testing.T) {
	a := JobServerName(123, 456)
	b := JobServerName(123, 456)

	if a != b {
		t.Errorf("JobServerName not deterministic: %q vs %q", a, b)
	}
	if a != "flotilla-123-456" {
		t.Errorf("JobServerName = %q, want flotilla-123-456", a)
	}
}

func TestRunScopedPrefix(t *testing.T) {
	prefix := RunScopedPrefix(123)

	if !strings.HasPrefix(JobServerName(123, 456), prefix) {
		t.Error("job server name must carry its run prefix")
	}
	// A run whose ID extends another's must not share its scope.
	if strings.HasPrefix(JobServerName(1234, 56), prefix) {
		t.Error("run 1234 must not fall under run 123's prefix")
	}
}

func TestNameNamespaces(t *testing.T) {
	standby := StandbyServerName()

	if !IsFleetServer(standby) || !IsStandbyServer(standby) {
		t.Errorf("standby name %q not recognized", standby)
	}
	if IsRecyclableServer(standby) {
		t.Errorf("standby name %q misclassified as recyclable", standby)
	}

	if StandbyServerName() == standby {
		t.Error("standby names must be unique")
	}

	recycle := RecycleNamePrefix + "0af1"
	if !IsFleetServer(recycle) || !IsRecyclableServer(recycle) {
		t.Errorf("recycle name %q not recognized", recycle)
	}

	if IsFleetServer("unrelated-server") {
		t.Error("foreign name misclassified as fleet server")
	}
}
