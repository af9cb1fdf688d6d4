package tradelocker

// Version is reported to the broker through the v query parameter attached to
// every request.
const Version = "0.2.0"

// refValue identifies this client in the broker's request attribution.
const refValue = "go_c"
