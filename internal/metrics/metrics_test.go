package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
)

func TestObserveIncrementsRegisteredVectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.Observe(ataregs.AtaReadDmaExt, dispatch.Success, 5*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("want 2 registered metric families, got %d", len(families))
	}
}

func TestOpcodeLabelFormatsAsHex(t *testing.T) {
	if got := opcodeLabel(0x25); got != "0x25" {
		t.Fatalf("want 0x25, got %s", got)
	}
	if got := opcodeLabel(0x00); got != "0x00" {
		t.Fatalf("want 0x00, got %s", got)
	}
}
