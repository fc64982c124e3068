// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package alert

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mail "gopkg.in/gomail.v2"
)

type recorder struct {
	subjects []string
}

func (r *recorder) Notify(subject, body string) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

func TestWatcher(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "run.dat")
	err := os.WriteFile(fname, []byte("data"), 0644)
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}

	var (
		rec = new(recorder)
		w   = Watcher{
			Name:   fname,
			Freq:   time.Second,
			Notify: rec,
			Msg:    log.New(io.Discard, "", 0),
			size:   -1,
		}
	)

	w.poll() // first poll only records the size
	if got, want := len(rec.subjects), 0; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}

	err = os.WriteFile(fname, []byte("more data"), 0644)
	if err != nil {
		t.Fatalf("could not grow file: %+v", err)
	}
	w.poll()
	if got, want := len(rec.subjects), 0; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}

	for i := 0; i < MaxAlerts+3; i++ {
		w.poll()
	}
	if got, want := len(rec.subjects), MaxAlerts; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
	if !strings.Contains(rec.subjects[0], fname) {
		t.Fatalf("invalid alert subject: %q", rec.subjects[0])
	}
}

func TestMailer(t *testing.T) {
	for _, tc := range []struct {
		name string
		m    Mailer
		err  error
		want string
	}{
		{
			name: "missing-credentials",
			m:    Mailer{Usr: "daq@example.org"},
			want: "alert: could not send mail: missing credentials",
		},
		{
			name: "ok",
			m: Mailer{
				Usr: "daq@example.org", Pwd: "s3cr3t",
				Srv: "smtp.example.org", Port: 465,
				Tgts: []string{"shift@example.org"},
			},
		},
		{
			name: "send-error",
			m: Mailer{
				Usr: "daq@example.org", Pwd: "s3cr3t",
				Srv: "smtp.example.org", Port: 465,
				Tgts: []string{"shift@example.org"},
			},
			err:  fmt.Errorf("boom"),
			want: "alert: could not send mail: boom",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var sent *mail.Message
			tc.m.send = func(m *mail.Message) error {
				sent = m
				return tc.err
			}

			err := tc.m.Notify("subject", "body")
			switch {
			case err != nil && tc.want == "":
				t.Fatalf("could not notify: %+v", err)
			case err == nil && tc.want != "":
				t.Fatalf("expected an error")
			case err != nil && err.Error() != tc.want:
				t.Fatalf("invalid error:\ngot= %v\nwant=%v", err, tc.want)
			}

			if tc.want != "" {
				return
			}
			if got, want := sent.GetHeader("Subject"), []string{"subject"}; len(got) != 1 || got[0] != want[0] {
				t.Fatalf("invalid subject: got=%q, want=%q", got, want)
			}
			buf := new(bytes.Buffer)
			_, err = sent.WriteTo(buf)
			if err != nil {
				t.Fatalf("could not write message: %+v", err)
			}
			if !strings.Contains(buf.String(), "body") {
				t.Fatalf("invalid message body:\n%s", buf.String())
			}
		})
	}
}

func TestMailerFromEnv(t *testing.T) {
	t.Setenv("MAIL_USERNAME", "daq@example.org")
	t.Setenv("MAIL_PASSWORD", "s3cr3t")
	t.Setenv("MAIL_SERVER", "smtp.example.org")
	t.Setenv("MAIL_PORT", "465")
	t.Setenv("MAIL_TGTS", "a@example.org,b@example.org")

	m := MailerFromEnv()
	if !m.Valid() {
		t.Fatalf("mailer should be valid: %+v", m)
	}
	if got, want := len(m.Tgts), 2; got != want {
		t.Fatalf("invalid number of targets: got=%d, want=%d", got, want)
	}
}
