package config

// DefaultAPIBase is the default REST origin for a local backend.
const DefaultAPIBase = "http://127.0.0.1:8000/api"

// DefaultWSBase is the default WebSocket origin for a local backend.
const DefaultWSBase = "ws://127.0.0.1:8000"

// DefaultRole is assumed when the config names no role.
const DefaultRole = "employe"

// DefaultReconnectMaxAttempts bounds automatic reconnection.
const DefaultReconnectMaxAttempts = 5
