// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package language guesses the language of a query from its script.
package language

import (
	"unicode"

	"golang.org/x/text/language"
)

// Detector returns a BCP 47 language code for text.
type Detector interface {
	Detect(text string) string
}

// Supported tags, English first as the fallback.
var (
	English  = language.English
	Chinese  = language.Chinese
	Japanese = language.Japanese
	Korean   = language.Korean
)

var (
	supported = []language.Tag{English, Chinese, Japanese, Korean}
	matcher   = language.NewMatcher(supported)
)

// ScriptDetector classifies text by counting letters per script. Kana wins
// over Han so Japanese text with kanji is not reported as Chinese.
type ScriptDetector struct {
	// Fallback is returned when no CJK letters are present.
	Fallback language.Tag
}

// NewScriptDetector returns a detector falling back to English.
func NewScriptDetector() *ScriptDetector {
	return &ScriptDetector{Fallback: English}
}

// Detect implements Detector.
func (d *ScriptDetector) Detect(text string) string {
	return d.DetectTag(text).String()
}

// DetectTag returns the detected tag.
func (d *ScriptDetector) DetectTag(text string) language.Tag {
	var han, kana, hangul int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Han, r):
			han++
		}
	}

	switch {
	case kana > 0:
		return Japanese
	case hangul > 0 && hangul >= han:
		return Korean
	case han > 0:
		return Chinese
	}
	if d.Fallback == language.Und {
		return English
	}
	return d.Fallback
}

// Normalize parses a caller-supplied language code and reduces it to one
// of the supported base languages. Unknown or unparsable codes yield "".
func Normalize(code string) string {
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return ""
	}
	return supported[idx].String()
}
