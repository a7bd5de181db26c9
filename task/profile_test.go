package task

import "testing"

func TestProfileStepDown(t *testing.T) {
	p := Profile{Workers: 4, DPI: 300}

	p, ok := p.StepDown()
	if !ok || p.Workers != 1 || p.DPI != 300 {
		t.Fatalf("first step = %+v ok=%v, want single process at full resolution", p, ok)
	}

	p, ok = p.StepDown()
	if !ok || p.Workers != 1 || p.DPI != 150 {
		t.Fatalf("second step = %+v ok=%v, want reduced resolution", p, ok)
	}

	if next, ok := p.StepDown(); ok {
		t.Fatalf("expected exhausted ladder, got %+v", next)
	}
}

func TestProfileStepDownFloorsDPI(t *testing.T) {
	p := Profile{Workers: 1, DPI: 200}
	p, ok := p.StepDown()
	if !ok || p.DPI != minStepDownDPI {
		t.Fatalf("step = %+v ok=%v, want floor %d", p, ok, minStepDownDPI)
	}
}
