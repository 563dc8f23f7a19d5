// Command speechd runs the speech orchestration service: a single
// serialized coordinator handling STT listen/transcribe and TTS play
// requests behind a synchronous request/signal surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
