package main

const (
	txQueueSize = 1024 // capacity of the async TX funnel toward the link
	rxChunkSize = 256  // per-poll read buffer for the link RX loop
	defaultBaud = 115200
	defaultRate = 2000 // pump exchanges per second
)
