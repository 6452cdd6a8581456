//go:build whispercpp

package main

import (
	"github.com/hb9tf/spiritbox/transcribe"
	"github.com/hb9tf/spiritbox/transcribe/whispercpp"
)

func newWhisperCPP(modelPath, language string) (transcribe.Recognizer, error) {
	return whispercpp.New(modelPath, language)
}
