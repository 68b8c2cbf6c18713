package instance

import "testing"

func TestMatchesDaemon(t *testing.T) {
	cases := []struct {
		args []string
		want bool
	}{
		{[]string{"/usr/local/bin/cloudsync", "daemon"}, true},
		{[]string{"cloudsync", "--config", "/tmp/c.toml", "daemon"}, true},
		{[]string{"cloudsync.exe", "daemon"}, true},
		{[]string{"cloudsync", "status"}, false},
		{[]string{"cloudsync", "watchdog", "--pid", "42"}, false},
		{[]string{"other", "daemon"}, false},
		{[]string{"cloudsync"}, false},
		{[]string{"cloudsync", "sync", "daemon"}, false},
		{[]string{"cloudsync", "history", "daemon"}, false},
		{[]string{"cloudsync", "-c", "daemon"}, false},
		{[]string{"cloudsync", "--log-level", "debug", "--config=/tmp/c.toml", "daemon", "--foreground"}, true},
	}
	for _, tc := range cases {
		if got := matchesDaemon(tc.args, "cloudsync"); got != tc.want {
			t.Errorf("matchesDaemon(%q) = %v, want %v", tc.args, got, tc.want)
		}
	}
}
