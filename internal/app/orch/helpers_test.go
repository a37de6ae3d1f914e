package orch

import "github.com/pion/webrtc/v4"

const webrtcFailed = webrtc.PeerConnectionStateFailed

func candidateInit(c string) webrtc.ICECandidateInit {
	mid := "0"
	var idx uint16
	return webrtc.ICECandidateInit{Candidate: c, SDPMid: &mid, SDPMLineIndex: &idx}
}
