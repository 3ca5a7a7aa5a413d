package transport

import (
	"testing"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
)

func TestDirectionCode(t *testing.T) {
	tests := []struct {
		desc   string
		dir    ataregs.Direction
		bufLen int
		want   cdbDirection
	}{
		{"no buffer is no-direction regardless of dir", ataregs.DirIn, 0, dirNone},
		{"in with data", ataregs.DirIn, 512, dirFromDevice},
		{"out with data", ataregs.DirOut, 512, dirToDevice},
		{"none with data still no-direction", ataregs.DirNone, 512, dirNone},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := directionCode(tt.dir, tt.bufLen); got != tt.want {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
		})
	}
}
