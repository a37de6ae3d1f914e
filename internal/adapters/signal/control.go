package signal

import "github.com/dkeye/soundmesh/internal/app/orch"

func (ctl *SignalWSController) handleEcho(
	conn *WsSignalConn,
	data []byte,
) {
	orch.Send(conn, orch.Notice{
		Type:    orch.TypeEcho,
		Message: "Authorized message received: " + string(data),
	})
}
