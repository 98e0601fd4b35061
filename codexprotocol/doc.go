// Package codexprotocol turns codex app-server notifications into a closed
// set of typed events.
//
// The app-server has shipped several notification dialects: flat methods
// such as "turn/started" and "item/created", and legacy "codex/event/<kind>"
// envelopes that carry the payload under "msg" in either camelCase or
// snake_case. Normalize accepts all of them and never fails; anything it
// does not model is returned as Unknown with the raw params preserved.
//
//	ev := codexprotocol.Normalize(n.Method, n.Params)
//	switch e := ev.(type) {
//	case codexprotocol.AgentMessageDelta:
//	    fmt.Print(e.Delta)
//	case codexprotocol.TaskComplete:
//	    fmt.Println()
//	}
package codexprotocol
