//go:build !whispercpp

package main

import (
	"errors"

	"github.com/hb9tf/spiritbox/transcribe"
)

func newWhisperCPP(modelPath, language string) (transcribe.Recognizer, error) {
	return nil, errors.New("spiritbox was built without whisper.cpp support, rebuild with -tags whispercpp")
}
