package engine

import "fmt"

// reasonNames maps MQTT 5 CONNACK and DISCONNECT reason codes to the names
// the protocol gives them.
var reasonNames = map[byte]string{
	0x00: "Success",
	0x04: "Disconnect with will message",
	0x80: "Unspecified error",
	0x81: "Malformed packet",
	0x82: "Protocol error",
	0x83: "Implementation specific error",
	0x84: "Unsupported protocol version",
	0x85: "Client identifier not valid",
	0x86: "Bad user name or password",
	0x87: "Not authorized",
	0x88: "Server unavailable",
	0x89: "Server busy",
	0x8A: "Banned",
	0x8B: "Server shutting down",
	0x8C: "Bad authentication method",
	0x8D: "Keep alive timeout",
	0x8E: "Session taken over",
	0x95: "Packet too large",
	0x97: "Quota exceeded",
	0x9C: "Use another server",
	0x9D: "Server moved",
	0x9F: "Connection rate exceeded",
}

// reasonName renders a reason code as "Name (0xNN)".
func reasonName(code byte) string {
	if name, ok := reasonNames[code]; ok {
		return fmt.Sprintf("%s (0x%02x)", name, code)
	}
	return fmt.Sprintf("reason 0x%02x", code)
}
