package main

import (
	"fmt"
	"os"
	"time"

	"partyapp-referral-engine/internal/member"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by `referralctl seed`:
//
//	members:
//	  - id: m-1
//	    full_name: Alice
//	    district_id: D1
//	    province_id: P1
//	  - id: m-2
//	    referred_by_id: m-1
//	    status: ACTIVE
type seedFile struct {
	Members []*member.Member `yaml:"members"`
}

// loadSeed reads path and fills defaults: ACTIVE status, and created_at one
// millisecond apart in file order when absent.
func loadSeed(path string, now time.Time) ([]*member.Member, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Members))
	for i, m := range f.Members {
		if m == nil || m.ID == "" {
			return nil, fmt.Errorf("member #%d: id is required", i+1)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("member %s: duplicate id", m.ID)
		}
		seen[m.ID] = true
		if m.ReferredByID != nil && *m.ReferredByID == "" {
			m.ReferredByID = nil
		}
		if m.Status == "" {
			m.Status = member.StatusActive
		}
		if !m.Status.Valid() {
			return nil, fmt.Errorf("member %s: unknown status %q", m.ID, m.Status)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
	}
	return f.Members, nil
}

func seedCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert members from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			members, err := loadSeed(path, time.Now().UTC())
			if err != nil {
				return err
			}
			if _, err := a.local(); err != nil {
				return err
			}
			for _, m := range members {
				if err := a.repo.UpsertMember(cmd.Context(), m); err != nil {
					return fmt.Errorf("upsert %s: %w", m.ID, err)
				}
			}
			return a.print(map[string]int{"members": len(members)})
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "YAML file with a members list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
