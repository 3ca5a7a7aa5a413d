package tcmu

import (
	"github.com/prometheus/common/log"

	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
	"github.com/Seagate/opensea-transport-sub000/internal/translate"
)

// SatlCmdHandler hands every incoming SCSICmd to a software SATL
// (internal/translate.Translator) instead of emulating a fake device -
// the Translator talks to the real ATA drive behind Dispatch, per
// spec.md §4.5. One SatlCmdHandler is bound to one open device handle for
// its lifetime (spec.md §5's single-threaded contract), so it is only ever
// installed via SingleThreadedDevReady.
type SatlCmdHandler struct {
	Translator *translate.Translator
}

// HandleCommand implements SCSICmdHandler, replacing
// ReadWriterAtCmdHandler's per-opcode emulation switch (cmd_handler.go)
// with a single call into the translator's own opcode dispatch.
func (h SatlCmdHandler) HandleCommand(cmd *SCSICmd) (SCSIResponse, error) {
	result := h.Translator.Translate(translate.Ctx{
		Cdb:  cmd.CDB(),
		Data: cmd,
	})
	if result.Sense != nil {
		return cmd.RespondSenseData(result.Status, result.Sense), nil
	}
	return cmd.RespondStatus(result.Status), nil
}

// NewSatlSCSIHandler assembles the SCSIHandler the teacher's
// OpenTCMUDevice expects, backed by a Translator that dispatches every
// command through disp against the real drive naa identifies, instead of
// BasicSCSIHandler's fake in-memory ReadWriterAt (spec.md §0's
// cmd/satl-tcmu deployment shape).
func NewSatlSCSIHandler(volumeName string, sizes DataSizes, wwn WWN, disp *dispatch.Dispatcher, naa string) *SCSIHandler {
	t := &translate.Translator{Dispatch: disp, State: disp.State, Naa: naa}
	log.Debugf("satl: handler ready for %s (%d bytes, naa %s)", volumeName, sizes.VolumeSize, naa)
	return &SCSIHandler{
		VolumeName: volumeName,
		DataSizes:  sizes,
		HBA:        30,
		LUN:        0,
		WWN:        wwn,
		DevReady:   SingleThreadedDevReady(SatlCmdHandler{Translator: t}),
	}
}
