package translate

import (
	"encoding/binary"

	"github.com/Seagate/opensea-transport-sub000/internal/ataregs"
	"github.com/Seagate/opensea-transport-sub000/scsi"
)

// modePage builds one mode page's body (page code byte, length byte, then
// page-specific bytes), mirroring cmd_handler.go's CachingModePage shape but
// generalized to the set spec.md §4.5's "MODE SENSE/SELECT" note names.
func (t *Translator) modePage(page, subpage byte) []byte {
	switch {
	case page == 0x01 && subpage == 0:
		// Read-Write Error Recovery: AWRE/ARRE on, no retry-count override.
		buf := make([]byte, 12)
		buf[0], buf[1] = 0x01, 0x0a
		buf[2] = 0xc0
		return buf
	case page == 0x08 && subpage == 0:
		buf := make([]byte, 20)
		buf[0], buf[1] = 0x08, 0x12
		if t.State.WriteCacheEnabled() {
			buf[2] |= 0x04 // WCE
		}
		if t.State.ReadLookAheadDisabled() {
			buf[2] |= 0x20 // DRA
		}
		return buf
	case page == 0x0a && subpage == 0:
		buf := make([]byte, 12)
		buf[0], buf[1] = 0x0a, 0x0a
		return buf
	case page == 0x0a && subpage == 0x01:
		buf := make([]byte, 12)
		buf[0], buf[1] = 0x40|0x0a, 0x0a
		buf[2] = subpage
		return buf
	case page == 0x0a && subpage == 0xf1:
		buf := make([]byte, 8)
		buf[0], buf[1] = 0x40|0x0a, 0xf1
		buf[2] = subpage
		return buf
	case page == 0x1a && subpage == 0:
		buf := make([]byte, 12)
		buf[0], buf[1] = 0x1a, 0x0a
		return buf
	case page == 0x1a && subpage == 0xf1:
		buf := make([]byte, 16)
		buf[0], buf[1] = 0x40|0x1a, 0xf1
		buf[2] = subpage
		return buf
	case page == 0x1c && subpage == 0:
		buf := make([]byte, 12)
		buf[0], buf[1] = 0x1c, 0x0a
		buf[2] = 0x08 // disable exception reporting to the log
		return buf
	default:
		return nil
	}
}

func (t *Translator) modeSense(ctx Ctx, op byte) Result {
	cdb := ctx.Cdb
	page := cdb[2] & 0x3f
	pc := cdb[2] >> 6
	subpage := cdb[3]
	if pc != 0 {
		return t.checkCondition(scsi.SenseIllegalRequest, 0x24, 0x00)
	}

	var body []byte
	switch page {
	case 0x3f:
		for _, p := range [][2]byte{{0x01, 0}, {0x08, 0}, {0x0a, 0}, {0x0a, 1}, {0x0a, 0xf1}, {0x1a, 0}, {0x1a, 0xf1}, {0x1c, 0}} {
			body = append(body, t.modePage(p[0], p[1])...)
		}
	default:
		body = t.modePage(page, subpage)
		if body == nil {
			return t.invalidField(2, 5, true)
		}
	}

	dpofua := byte(0x10)
	var hdr []byte
	if op == scsi.ModeSense {
		hdr = []byte{byte(len(body) + 3), 0x00, dpofua, 0x00}
	} else {
		hdr = make([]byte, 8)
		binary.BigEndian.PutUint16(hdr[0:2], uint16(len(body)+6))
		hdr[3] = dpofua
	}

	data := append(hdr, body...)
	ctx.Data.Write(truncate(cdbAllocLen(cdb), data))
	return ok()
}

// modeSelect only supports writing back exactly the page MODE SENSE last
// returned, per spec.md §4.5's WCE/DRA → SET FEATURES mapping - anything
// else (including the EPC timer translation, §4.5's MODE SELECT 1A note)
// is validated shape-first and then acted on below.
func (t *Translator) modeSelect(ctx Ctx, op byte) Result {
	cdb := ctx.Cdb
	if cdb[1]&0x10 == 0 || cdb[1]&0x01 != 0 {
		return t.invalidField(1, 4, true)
	}
	allocLen := cdbAllocLen(cdb)
	if allocLen == 0 {
		return ok()
	}
	hdrLen := 4
	if op == scsi.ModeSelect10 {
		hdrLen = 8
	}
	buf := make([]byte, allocLen)
	ctx.Data.Read(buf)
	if len(buf) <= hdrLen {
		return t.invalidParameterField(0, 0, false)
	}
	page := buf[hdrLen] & 0x3f
	subpage := byte(0)
	if buf[hdrLen]&0x40 != 0 && hdrLen+1 < len(buf) {
		subpage = buf[hdrLen+1]
	}

	switch {
	case page == 0x08 && subpage == 0:
		return t.modeSelectCaching(buf[hdrLen:])
	case page == 0x1a:
		return t.modeSelectPowerConditions(buf[hdrLen:], subpage)
	default:
		return t.invalidParameterField(uint16(hdrLen), 0, false)
	}
}

// modeSelectCaching maps the Caching page's WCE/DRA bits to SET FEATURES
// enable/disable write cache and disable/enable read look-ahead.
func (t *Translator) modeSelectCaching(body []byte) Result {
	if len(body) < 3 {
		return t.invalidParameterField(0, 0, false)
	}
	wce := body[2]&0x04 != 0
	dra := body[2]&0x20 != 0

	wceFeature := byte(0x82) // disable write cache
	if wce {
		wceFeature = 0x02 // enable write cache
	}
	if res := t.setFeatures(wceFeature, 0); res.Status != scsi.SamStatGood {
		return res
	}
	t.State.SetWriteCacheEnabled(wce)

	draFeature := byte(0xAA) // enable read look-ahead
	if dra {
		draFeature = 0x55 // disable read look-ahead
	}
	res := t.setFeatures(draFeature, 0)
	if res.Status != scsi.SamStatGood {
		return res
	}
	t.State.SetReadLookAheadDisabled(dra)
	return res
}

func (t *Translator) setFeatures(feature, count byte) Result {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = 0xEF // SET FEATURES
	cmd.Tfr.Feature = feature
	cmd.Tfr.SectorCount = count
	_, res := t.issue(&cmd, nil)
	return res
}

// epcTimer rounds a 32-bit SCSI timer value (100ms units) into the 16-bit
// ATA EPC timer field with its units bit, per spec.md §4.5: values up to
// 65535 pass through unchanged, values up to 39,321,000 get divided by 600
// with the rounding flag set (and RECOVERED_ERROR/37/00 reported), anything
// larger saturates at the maximum representable timer.
func epcTimer(scsiTimer uint32) (value uint16, rounded bool) {
	switch {
	case scsiTimer <= 65535:
		return uint16(scsiTimer), false
	case scsiTimer <= 39321000:
		v := (scsiTimer + 300) / 600
		if v > 0xFFFF {
			v = 0xFFFF
		}
		return uint16(v), true
	default:
		return 0xFFFF, true
	}
}

// epcConditions names the five EPC power conditions MODE SELECT page 1A
// can carry timers for, in the fixed order spec.md §4.5 lists them.
var epcConditions = []struct {
	offset  int
	timerID byte
}{
	{4, 0x01},  // idle_a
	{8, 0x02},  // idle_b
	{12, 0x03}, // idle_c
	{16, 0x05}, // standby_y
	{20, 0x04}, // standby_z
}

func (t *Translator) modeSelectPowerConditions(body []byte, subpage byte) Result {
	if subpage != 0x01 {
		return t.invalidParameterField(0, 0, false)
	}
	anyRounded := false
	for _, c := range epcConditions {
		if c.offset+4 > len(body) {
			continue
		}
		raw := binary.BigEndian.Uint32(body[c.offset : c.offset+4])
		if raw == 0 {
			continue
		}
		ticks, rounded := epcTimer(raw)
		if rounded {
			anyRounded = true
		}
		if res := t.epcSetPowerConditionTimer(c.timerID, ticks, rounded); res.Status != scsi.SamStatGood {
			return res
		}
	}
	if anyRounded {
		return t.checkCondition(scsi.SenseRecoveredError, 0x37, 0x00)
	}
	return ok()
}

func (t *Translator) epcSetPowerConditionTimer(timerID byte, ticks uint16, roundedUp bool) Result {
	cmd := ataregs.Command{
		Shape: ataregs.Taskfile28, Protocol: ataregs.ProtoNoData, Direction: ataregs.DirNone,
		NeedRtfrs: true, Hacks: t.State.Hacks,
	}
	cmd.Tfr.Command = 0x4E // EXTENDED POWER CONDITIONS
	cmd.Tfr.Feature = 0x03 // SET POWER CONDITION TIMER
	cmd.Tfr.LbaLow = timerID
	cmd.Tfr.LbaMid = byte(ticks)
	cmd.Tfr.LbaHi = byte(ticks >> 8)
	if roundedUp {
		cmd.Tfr.Device |= 0x10 // units bit: minutes instead of 100ms
	}
	_, res := t.issue(&cmd, nil)
	return res
}
