package main

import (
	"strings"
	"testing"
)

func testUnit() serviceUnit {
	return serviceUnit{
		Exec:    "/usr/local/bin/msgwatch",
		Config:  "/home/u/.msgwatch/config.json",
		WorkDir: "/srv/watch",
		Log:     "/home/u/.msgwatch/logs/msgwatch.log",
		ErrLog:  "/home/u/.msgwatch/logs/msgwatch-error.log",
	}
}

func TestServiceUnit_Systemd(t *testing.T) {
	unit := testUnit().systemd()
	for _, want := range []string{
		"ExecStart=/usr/local/bin/msgwatch watch --config /home/u/.msgwatch/config.json",
		"WorkingDirectory=/srv/watch",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("systemd unit missing %q:\n%s", want, unit)
		}
	}
	if strings.Contains(unit, "{{") {
		t.Errorf("unreplaced placeholder in:\n%s", unit)
	}
}

func TestServiceUnit_Launchd(t *testing.T) {
	plist := testUnit().launchd()
	for _, want := range []string{
		"<string>" + launchdLabel + "</string>",
		"<string>watch</string>",
		"<string>/srv/watch</string>",
		"<string>/home/u/.msgwatch/logs/msgwatch-error.log</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
	if strings.Contains(plist, "{{") {
		t.Errorf("unreplaced placeholder in:\n%s", plist)
	}
}
