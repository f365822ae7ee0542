package main

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// statusLabel renders a stored status ("in-progress") for humans.
func statusLabel(status string) string {
	if status == "" {
		return "Unknown"
	}
	return titleCaser.String(strings.ReplaceAll(status, "-", " "))
}

// kindLabel renders an error kind ("join_incomplete") for humans.
func kindLabel(kind string) string {
	return titleCaser.String(strings.ReplaceAll(kind, "_", " "))
}
