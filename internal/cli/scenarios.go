// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/queue"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
)

type scenario struct {
	name        string
	description string
	memoryOnly  bool // needs failure injection
	run         func(ctx context.Context, d *device, r *Report) error
}

var scenarios = []scenario{
	{name: "offline-online", description: "Changes made offline are replayed in order once online", run: runOfflineOnline},
	{name: "delete-offline", description: "A delete hides the offer at once and reaches the server later", run: runDeleteOffline},
	{name: "retry-exhaustion", description: "A change the server keeps rejecting is dropped with a warning", memoryOnly: true, run: runRetryExhaustion},
}

// ScenarioNames lists the runnable scenarios.
func ScenarioNames() []string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return names
}

func selectScenarios(name string) ([]scenario, error) {
	if name == "all" {
		return scenarios, nil
	}
	for _, s := range scenarios {
		if s.name == name {
			return []scenario{s}, nil
		}
	}
	return nil, fmt.Errorf("unknown scenario %q: must be one of %v or all", name, ScenarioNames())
}

func offerFields(sport, location string) model.OfferFields {
	return model.OfferFields{
		SportType: sport,
		Location:  location,
		DateTime:  time.Now().Add(48 * time.Hour).Truncate(time.Minute).UTC(),
	}
}

func expectSynced(d *device) error {
	if n := d.app.Queue().Len(); n != 0 {
		return fmt.Errorf("queue still holds %d operations", n)
	}
	for _, o := range d.app.Offers() {
		if model.IsTempID(o.ID) {
			return fmt.Errorf("offer %s was never resolved", o.ID)
		}
		if o.State != model.SyncConfirmed {
			return fmt.Errorf("offer %s is still %s", o.ID, o.State)
		}
	}
	return nil
}

func runOfflineOnline(ctx context.Context, d *device, r *Report) error {
	r.record("start offline", d)

	tennis, err := d.app.CreateOffer(ctx, offerFields("Tennis", "Court 3"))
	if err != nil {
		return err
	}
	if _, err := d.app.CreateOffer(ctx, offerFields("Running", "Riverside")); err != nil {
		return err
	}
	if err := d.app.UpdateOffer(ctx, tennis.ID, offerFields("Padel", "Court 3")); err != nil {
		return err
	}
	first := "Sam"
	if _, err := d.app.UpdateProfile(ctx, model.ProfileUpdate{FirstName: &first}); err != nil {
		return err
	}
	r.record("changes queued", d)
	if n := d.app.Queue().Len(); n != 4 {
		return fmt.Errorf("expected 4 queued operations, got %d", n)
	}

	d.setOnline(true)
	r.record("back online", d)
	if err := expectSynced(d); err != nil {
		return err
	}
	if n := len(d.app.Offers()); n < 2 {
		return fmt.Errorf("expected both offers on the server, got %d", n)
	}
	return nil
}

func runDeleteOffline(ctx context.Context, d *device, r *Report) error {
	d.setOnline(true)
	created, err := d.app.CreateOffer(ctx, offerFields("Swimming", "Lake"))
	if err != nil {
		return err
	}
	r.record("created online", d)

	d.setOnline(false)
	if err := d.app.DeleteOffer(ctx, created.ID); err != nil {
		return err
	}
	r.record("deleted offline", d)
	for _, o := range d.app.Offers() {
		if o.ID == created.ID {
			return fmt.Errorf("deleted offer %s still visible", o.ID)
		}
	}

	d.setOnline(true)
	r.record("back online", d)
	if err := expectSynced(d); err != nil {
		return err
	}
	for _, o := range d.app.Refresh(ctx) {
		if o.ID == created.ID {
			return fmt.Errorf("offer %s still on the server", o.ID)
		}
	}
	return nil
}

func runRetryExhaustion(ctx context.Context, d *device, r *Report) error {
	if _, err := d.app.CreateOffer(ctx, offerFields("Climbing", "Gym")); err != nil {
		return err
	}
	d.mem.FailAll(remote.ErrUnavailable)
	defer d.mem.FailAll(nil)

	d.setOnline(true)
	for i := 1; i < queue.MaxRetries; i++ {
		if _, ok := d.app.SyncNow(ctx); !ok {
			return fmt.Errorf("sync pass %d did not run", i+1)
		}
	}
	r.record("after retries", d)

	if n := d.app.Queue().Len(); n != 0 {
		return fmt.Errorf("expected the exhausted operation to be dropped, %d left", n)
	}
	if len(d.app.State().Warnings) != 1 {
		return fmt.Errorf("expected one warning, got %v", d.app.State().Warnings)
	}
	if n := len(d.app.Offers()); n != 0 {
		return fmt.Errorf("expected the unsynced offer to be discarded, %d offers left", n)
	}
	return nil
}
