// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// RunStandalone runs an acquisition session until the board closes the
// stream, the configured number of frames has been acquired, ctx is
// cancelled or the process receives an interrupt or termination signal.
func RunStandalone(ctx context.Context, cfg Config, opts ...Option) (Stats, error) {
	sess, err := New(cfg, opts...)
	if err != nil {
		return Stats{}, fmt.Errorf("acq: could not create session: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		select {
		case sig := <-stop:
			sess.msg.Infof("received signal %v", sig)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})
	grp.Go(func() error {
		defer cancel()
		return sess.Run(ctx)
	})

	err = grp.Wait()
	return sess.Stats(), err
}
