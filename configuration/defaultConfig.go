package configuration

// defaultConfig loaded anyway when service starts
// may be extended/replaced by user-provided config later
var defaultConfig = []byte(`
version: v0.1.0
log:
  console:
    level: info # available levels: debug, info, warn, error, dpanic, panic, fatal
client:
  servers: 127.0.0.1:9100
  pingInterval: 5s
  inactivity: 10s
  ackTimeout: 5s
  handshakeTimeout: 5s
  maxPacketSize: 10485760
  replyTo: ""
  exposeReplies: false
  reconnect:
    initial: 100ms
    max: 10s
    multiplier: 2
    maxAttempts: 0 # 0 retries forever
broker:
  maxPacketSize: 10485760
  inactivity: 30s
  listeners:
    - scheme: tcp
      port: 9100
    - scheme: ws
      port: 9101
      path: /bolt
http:
  addr: ":8080"
`)
