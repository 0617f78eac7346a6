// Package locator parses and rebuilds MQTT broker locators.
//
// A locator is a URI-like string that names the broker address together with
// the transport and security mode:
//
//	scheme://[credentials@]host[:port][/path]
//
// Recognised schemes (case-insensitive):
//
//	mqtt   plain TCP          default port 1883
//	mqtts  TLS over TCP       default port 8883
//	ws     WebSocket          default port 1883
//	wss    WebSocket over TLS default port 8883
//
// Credentials embedded in the authority are accepted and discarded; they are
// configured separately on the client. The path is only meaningful for the
// WebSocket schemes and defaults to "/".
//
// # Usage
//
//	parts, err := locator.Parse("wss://broker.example.com:9001/mqtt")
//	if err != nil {
//	    return err
//	}
//	uri := locator.Build(parts) // "wss://broker.example.com:9001/mqtt"
package locator
