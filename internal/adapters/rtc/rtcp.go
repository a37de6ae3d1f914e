package rtc

import (
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// worstFractionLost returns the highest fraction lost (out of 256) carried by
// receiver reports in pkts.
func worstFractionLost(pkts []rtcp.Packet) (uint8, bool) {
	var worst uint8
	found := false
	for _, p := range pkts {
		rr, ok := p.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, r := range rr.Reports {
			found = true
			if r.FractionLost > worst {
				worst = r.FractionLost
			}
		}
	}
	return worst, found
}

// drainRTCP reads RTCP from sender until it closes. Interceptors only run
// while somebody reads.
func drainRTCP(sid core.SessionID, trackID string, sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		if lost, ok := worstFractionLost(pkts); ok && lost > 0 {
			log.Debug().Str("module", "webrtc").Str("sid", string(sid)).Str("track", trackID).
				Float64("loss", float64(lost)/256).Msg("receiver report loss")
		}
	}
}
