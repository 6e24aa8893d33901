package signal

import "encoding/json"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	b, _ := json.Marshal(resp)
	ctl.send(conn, b)
}
