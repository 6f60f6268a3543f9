// Package loong drives the OpenLoong humanoid's actuation SDK over UDP.
//
// Each configured channel runs a fixed-rate control loop that sends one
// command frame per cycle and decodes the sensor frame the SDK answers
// with. A command sequencer turns high-level GRAB, RETURN and CUSTOM
// requests from the message bus into command targets and reports one
// completion status per accepted request.
//
// # Installation
//
//	go install github.com/gwillem/loong/cmd/loong@latest
//
// # Usage
//
// Describe the channels once:
//
//	loong setup
//
// Then start the control loops and the bus hub:
//
//	loong run
//
// and issue a request from another shell:
//
//	loong send GRAB --target '{"finger_left":[0.5,0.5,0.5,0.5,0.5,0.5]}'
//
// loong-sim (or 'loong sim') stands in for the SDK when no robot is at hand.
//
// # Packages
//
//   - cmd/loong: CLI with setup, run, monitor, send and sim commands
//   - cmd/loong-sim: standalone SDK simulator for every configured channel
//   - pkg/frame: channel layouts and the little-endian frame codec
//   - pkg/transport: non-blocking UDP datagram socket
//   - pkg/control: fixed-rate control loop
//   - pkg/sequencer: GRAB, RETURN and CUSTOM action state machine
//   - pkg/bus: request/status payloads, in-memory bus and websocket hub
//   - pkg/node: one channel's loop, sequencer and bus wiring
//   - pkg/ocu: operator control unit panel emulation
//   - pkg/sim: simulated actuation endpoint
//   - pkg/robot: profiles, poses and configuration
//   - pkg/logging, pkg/observability: zerolog setup, metrics and admin HTTP
package loong
