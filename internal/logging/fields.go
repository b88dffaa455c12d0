package logging

import "github.com/sirupsen/logrus"

// BaseFields builds the action + config path fields shared by every
// startup/diagnostic log line.
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields builds the fields a Fetch/Prefetch call logs on completion:
// which URL, which policy, whether it was served from the store or the
// source, and whether it succeeded.
func FetchFields(url, policy string, fromSource bool, ok bool) logrus.Fields {
	return logrus.Fields{
		"url":         url,
		"policy":      policy,
		"from_source": fromSource,
		"ok":          ok,
	}
}

// SweepFields builds the fields a RemoveExpired sweep logs: how many
// entries were evaluated and how many were removed.
func SweepFields(tier string, scanned, removed int) logrus.Fields {
	return logrus.Fields{
		"tier":    tier,
		"scanned": scanned,
		"removed": removed,
	}
}
