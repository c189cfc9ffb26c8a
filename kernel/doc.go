// Package kernel manages a single persistent Jupyter kernel process and
// speaks the Jupyter messaging protocol (v5.3) with it over ZeroMQ.
//
// # Architecture
//
//   - [Kernel]: one running kernel process and its shell, control, iopub and
//     heartbeat sockets. Messages are routed to callers by parent msg_id.
//
//   - [Manager]: the session owner. It starts the kernel lazily, replaces a
//     kernel that died, restarts it on request and shuts it down on exit.
//
//   - [Execution]: the handle for one execute_request. Its IOPub channel
//     carries every broadcast parented to the request, its Reply channel
//     carries the execute_reply.
//
// # Wire Format
//
// Each message is a multipart ZeroMQ message:
//
//	[identities..., "<IDS|MSG>", hmac, header, parent_header, metadata, content, buffers...]
//
// The hmac is the lowercase hex HMAC-SHA256 of the four JSON frames, keyed
// with the key from the connection file. Messages with a bad signature are
// dropped.
//
// # Lifecycle
//
// Start writes a connection file, launches the configured command (by
// default python3 -m ipykernel_launcher), dials the sockets and polls
// kernel_info_request until the kernel answers on shell and iopub. Every
// start assigns a new kernel ID; uptime is measured from that start.
package kernel
