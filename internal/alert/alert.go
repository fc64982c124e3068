// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert notifies operators when an acquisition stalls.
package alert // import "github.com/plegaspi/ad4134-fmcz/internal/alert"

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	mail "gopkg.in/gomail.v2"
)

// MaxAlerts is the maximum number of notifications sent per stalled file.
const MaxAlerts = 5

// Notifier sends a notification.
type Notifier interface {
	Notify(subject, body string) error
}

// Mailer sends notifications by mail.
type Mailer struct {
	Usr  string
	Pwd  string
	Srv  string
	Port int
	Tgts []string

	send func(m *mail.Message) error
}

// MailerFromEnv creates a mailer configured from the MAIL_USERNAME,
// MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
func MailerFromEnv() *Mailer {
	m := &Mailer{
		Usr:  os.Getenv("MAIL_USERNAME"),
		Pwd:  os.Getenv("MAIL_PASSWORD"),
		Srv:  os.Getenv("MAIL_SERVER"),
		Port: atoi(os.Getenv("MAIL_PORT")),
	}
	if v := os.Getenv("MAIL_TGTS"); v != "" {
		m.Tgts = strings.Split(v, ",")
	}
	return m
}

// Valid reports whether the mailer has credentials and recipients.
func (m *Mailer) Valid() bool {
	return m.Usr != "" && m.Pwd != "" &&
		m.Srv != "" && m.Port != 0 &&
		len(m.Tgts) != 0
}

func (m *Mailer) Notify(subject, body string) error {
	if !m.Valid() {
		return fmt.Errorf("alert: could not send mail: missing credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.Usr)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	send := m.send
	if send == nil {
		dial := mail.NewDialer(m.Srv, m.Port, m.Usr, m.Pwd)
		dial.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		send = func(msg *mail.Message) error { return dial.DialAndSend(msg) }
	}

	err := send(msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail: %w", err)
	}
	return nil
}

// Watcher periodically checks that a growing file keeps growing.
type Watcher struct {
	Name   string        // file to watch
	Freq   time.Duration // probing interval
	Notify Notifier
	Msg    *log.Logger

	size   int64
	alerts int
}

// Run polls the watched file until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	tick := time.NewTicker(w.Freq)
	defer tick.Stop()

	w.size = -1
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	fi, err := os.Stat(w.Name)
	if err != nil {
		w.Msg.Printf("could not stat %q: %+v", w.Name, err)
		return
	}

	size := fi.Size()
	defer func() { w.size = size }()

	if w.size < 0 || size != w.size {
		return
	}

	w.Msg.Printf("file %q didn't change in the last %v (size=%d bytes)",
		w.Name, w.Freq, size,
	)
	w.alerts++
	if w.alerts > MaxAlerts || w.Notify == nil {
		return
	}

	err = w.Notify.Notify(
		fmt.Sprintf("[ad4134] file alert: %q", w.Name),
		fmt.Sprintf("file: %q\nsize: %d bytes\nfreq: %v", w.Name, size, w.Freq),
	)
	if err != nil {
		w.Msg.Printf("could not send alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
