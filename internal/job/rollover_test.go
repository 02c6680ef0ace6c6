package job

import (
	"reflect"
	"testing"
)

func TestDefaultPlans(t *testing.T) {
	table := DefaultCorrections()
	tests := []struct {
		name                   string
		typeName, key, dev, ver string
		wantChain              []Strategy
		wantRotate             bool
		wantChecked            bool
	}{
		{"plain counter", "cpu", "user", "0", "2.0.9", []Strategy{WidthWrap, HoldLastOnZero}, false, true},
		{"iowait", "cpu", "iowait", "0", "2.0.9", []Strategy{WidthWrap, HoldLastOnZero, AssumeResetAtIntervalStart}, false, true},
		{"ib_ext", "ib_ext", "port_xmit_data", "mlx4_0/1", "", []Strategy{WidthWrap, HoldLastOnZero, AssumeResetAtIntervalStart}, false, false},
		{"ib unchecked", "ib", "port_rcv_data", "mlx4_0/1", "", []Strategy{WidthWrap, HoldLastOnZero}, false, false},
		{"mic net", "net", "rx_bytes", "mic1", "", []Strategy{WidthWrap, HoldLastOnZero, HoldLastAtFinalSample}, false, true},
		{"eth net", "net", "rx_bytes", "eth0", "", []Strategy{WidthWrap, HoldLastOnZero}, false, true},
		{"intel rotate", "intel_snb", "CTL0", "0", "2.2.1", []Strategy{WidthWrap, HoldLastOnZero}, true, true},
		{"intel other version", "intel_snb", "CTL0", "0", "2.1.0", []Strategy{WidthWrap, HoldLastOnZero}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := table.Plan(tt.typeName, tt.key, tt.dev, tt.ver)
			if !reflect.DeepEqual(p.Chain, tt.wantChain) {
				t.Errorf("Chain = %v, want %v", p.Chain, tt.wantChain)
			}
			if p.Rotate != tt.wantRotate {
				t.Errorf("Rotate = %v, want %v", p.Rotate, tt.wantRotate)
			}
			if p.Checked != tt.wantChecked {
				t.Errorf("Checked = %v, want %v", p.Checked, tt.wantChecked)
			}
		})
	}
}

func TestResolvePriority(t *testing.T) {
	p := Plan{Chain: []Strategy{WidthWrap, HoldLastOnZero, AssumeResetAtIntervalStart}}
	if got := p.Resolve(32, 0, 1, 5); got != WidthWrap {
		t.Errorf("narrow counter: got %s, want WidthWrap", got)
	}
	if got := p.Resolve(64, 0, 1, 5); got != HoldLastOnZero {
		t.Errorf("zero reading: got %s, want HoldLastOnZero", got)
	}
	if got := p.Resolve(64, 7, 1, 5); got != AssumeResetAtIntervalStart {
		t.Errorf("family reset: got %s, want AssumeResetAtIntervalStart", got)
	}

	final := Plan{Chain: []Strategy{HoldLastAtFinalSample}}
	if got := final.Resolve(64, 7, 3, 5); got != None {
		t.Errorf("mid-job drop: got %s, want None", got)
	}
	if got := final.Resolve(64, 7, 4, 5); got != HoldLastAtFinalSample {
		t.Errorf("final drop: got %s, want HoldLastAtFinalSample", got)
	}
}

func TestCustomRuleTable(t *testing.T) {
	table := NewCorrectionTable([]Rule{
		{Type: "lustre*", Key: "read_bytes", Strategy: AssumeResetAtIntervalStart},
	}, []string{"lustre_llite"})
	p := table.Plan("lustre_llite", "read_bytes", "scratch", "")
	if !reflect.DeepEqual(p.Chain, []Strategy{AssumeResetAtIntervalStart}) || p.Checked {
		t.Fatalf("Plan = %+v", p)
	}
	if p := table.Plan("lustre_llite", "write_bytes", "scratch", ""); len(p.Chain) != 0 {
		t.Fatalf("unmatched key got chain %v", p.Chain)
	}
}

func correctWith(typeName, key, dev string, width int, values []uint64) ([]uint64, bool) {
	c := column{
		width: width,
		plan:  DefaultCorrections().Plan(typeName, key, dev, ""),
	}
	out := append([]uint64(nil), values...)
	overflow := c.correct(out)
	return out, overflow
}

func TestCorrectSingleWrapAbsorbed(t *testing.T) {
	got, overflow := correctWith("cpu", "user", "0", 32, []uint64{4294967000, 4294967200, 100, 300})
	want := []uint64{0, 200, 396, 596}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("corrected = %v, want %v", got, want)
	}
	if overflow {
		t.Fatal("single 32-bit wrap flagged as overflow")
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("negative delta at %d: %v", i, got)
		}
	}
}

func TestCorrectHalfRangeFlagged(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		values []uint64
	}{
		{"64-bit drop", 64, []uint64{1000, 2000, 500}},
		{"32-bit near-full wrap", 32, []uint64{0, 10, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, overflow := correctWith("cpu", "user", "0", tt.width, tt.values); !overflow {
				t.Fatal("overflow not flagged")
			}
		})
	}
}

func TestCorrectHoldLastOnZero(t *testing.T) {
	got, overflow := correctWith("ib", "port_rcv_data", "mlx4_0/1", 64, []uint64{100, 200, 0, 300})
	if want := []uint64{0, 100, 100, 200}; !reflect.DeepEqual(got, want) {
		t.Fatalf("corrected = %v, want %v", got, want)
	}
	if overflow {
		t.Fatal("held zero flagged as overflow")
	}
}

func TestCorrectAssumeReset(t *testing.T) {
	got, overflow := correctWith("cpu", "iowait", "0", 64, []uint64{100, 200, 50, 80})
	if want := []uint64{0, 100, 150, 180}; !reflect.DeepEqual(got, want) {
		t.Fatalf("corrected = %v, want %v", got, want)
	}
	if overflow {
		t.Fatal("reset counter flagged as overflow")
	}
}

func TestCorrectHoldLastAtFinalSample(t *testing.T) {
	got, overflow := correctWith("net", "rx_bytes", "mic0", 64, []uint64{100, 200, 10})
	if want := []uint64{0, 100, 100}; !reflect.DeepEqual(got, want) {
		t.Fatalf("corrected = %v, want %v", got, want)
	}
	if overflow {
		t.Fatal("final sample reset flagged as overflow")
	}

	if _, overflow := correctWith("net", "rx_bytes", "mic0", 64, []uint64{100, 50, 60}); !overflow {
		t.Fatal("mid-job drop on mic0 not flagged")
	}
}

func TestCorrectInterpolateAtRotate(t *testing.T) {
	c := column{
		width:   48,
		plan:    DefaultCorrections().Plan("intel_snb", "CTR0", "0", "2.2.1"),
		rotates: map[int]bool{3: true},
		times:   []float64{0, 10, 20, 30},
	}
	a := []uint64{0, 100, 200, 5}
	if c.correct(a) {
		t.Fatal("rotation flagged as overflow")
	}
	if want := []uint64{0, 100, 200, 300}; !reflect.DeepEqual(a, want) {
		t.Fatalf("corrected = %v, want %v", a, want)
	}
}

func TestStrategyString(t *testing.T) {
	if HoldLastAtFinalSample.String() != "HoldLastAtFinalSample" {
		t.Fatalf("String() = %q", HoldLastAtFinalSample.String())
	}
	if Strategy(42).String() != "Unknown" {
		t.Fatalf("String() = %q", Strategy(42).String())
	}
}
