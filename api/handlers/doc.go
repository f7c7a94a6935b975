// Package handlers implements the HTTP surface of the orchestration engine:
// workflow validation and execution, run history, transcripts, and the
// websocket transcript stream. Every endpoint answers with the shared
// Response envelope.
package handlers
