package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix = "pluginstats-"
	backupSuffix = ".db"
)

func backupName(t time.Time) string {
	return backupPrefix + t.UTC().Format("20060102-150405.000000") + backupSuffix
}

// RetentionPolicy is how many backups to keep in each age tier. Zero means
// the default for that tier.
type RetentionPolicy struct {
	Hourly  int // younger than a day (default: 24)
	Daily   int // up to a week (default: 7)
	Weekly  int // up to 30 days (default: 4)
	Monthly int // up to a year (default: 12)
}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	defaults := RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
	if p.Hourly <= 0 {
		p.Hourly = defaults.Hourly
	}
	if p.Daily <= 0 {
		p.Daily = defaults.Daily
	}
	if p.Weekly <= 0 {
		p.Weekly = defaults.Weekly
	}
	if p.Monthly <= 0 {
		p.Monthly = defaults.Monthly
	}
	return p
}

// listBackups returns the backup files in dir, newest first.
func listBackups(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read %s: %w", dir, err)
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:      filepath.Join(dir, name),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// applyRetention deletes the backups that fall outside policy as of now.
// Backups older than a year are always deleted.
func applyRetention(dir string, policy RetentionPolicy, now time.Time) error {
	backups, err := listBackups(dir)
	if err != nil {
		return err
	}

	tiers := []struct {
		maxAge time.Duration
		keep   int
	}{
		{24 * time.Hour, policy.Hourly},
		{7 * 24 * time.Hour, policy.Daily},
		{30 * 24 * time.Hour, policy.Weekly},
		{365 * 24 * time.Hour, policy.Monthly},
	}
	kept := make([]int, len(tiers))

	var errs []error
	for _, b := range backups {
		age := now.Sub(b.Timestamp)
		tier := sort.Search(len(tiers), func(i int) bool { return age < tiers[i].maxAge })
		if tier < len(tiers) && kept[tier] < tiers[tier].keep {
			kept[tier]++
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
