// Package relay serves a Chrome DevTools Protocol endpoint to any number of
// CDP clients while the real browser instrumentation lives behind a single
// browser-extension WebSocket.
package relay

import "time"

const (
	// Version is the relay's semantic version.
	Version = "0.0.1"

	// ProductName prefixes the synthetic browser product string.
	ProductName = "single-spa-inspector-pro"

	// ProtocolVersion is the CDP protocol version the relay advertises.
	ProtocolVersion = "1.3"

	// UserAgent is reported by the emulated Browser.getVersion.
	UserAgent = "single-spa-inspector-pro-cdp-relay"

	// DefaultClientID is the client path advertised by /json/version.
	DefaultClientID = "default"
)

// Endpoint paths.
const (
	ExtensionPath    = "/extension"
	ClientPathPrefix = "/cdp/"
)

// Extension envelope methods.
const (
	methodForwardCommand = "forwardCDPCommand"
	methodForwardEvent   = "forwardCDPEvent"
	methodPing           = "ping"
	methodPong           = "pong"
	methodLog            = "log"
)

const (
	// writeWait is the deadline for a single socket write.
	writeWait = 10 * time.Second

	// closeGrace is the deadline for writing a close frame.
	closeGrace = time.Second

	// clientQueueSize is how many frames may wait for a CDP client before it
	// is considered stuck and disconnected.
	clientQueueSize = 1024

	// maxMessageSize caps inbound frames. CDP payloads such as screenshots are large.
	maxMessageSize = 100 << 20
)

func product() string {
	return ProductName + "/" + Version
}
