// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"encoding/json"

	"github.com/samber/oops"
)

// deprecatedKeys are top-level fields older documents may carry.
var deprecatedKeys = []string{"_activity"}

// migrate upgrades a decoded document in place to CurrentVersion.
func migrate(doc map[string]any) error {
	raw, ok := doc[VersionKey]
	if !ok {
		return oops.Code("ENTITY_MIGRATION_FAILED").Errorf("document has no %q field", VersionKey)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return oops.Code("ENTITY_MIGRATION_FAILED").Errorf("%q is not a number", VersionKey)
	}
	version, err := num.Int64()
	if err != nil {
		return oops.Code("ENTITY_MIGRATION_FAILED").Wrapf(err, "%q is not an integer", VersionKey)
	}
	if version > CurrentVersion {
		return oops.Code("ENTITY_MIGRATION_FAILED").
			With("version", version).
			Errorf("document version %d is newer than supported version %d", version, CurrentVersion)
	}

	for _, k := range deprecatedKeys {
		delete(doc, k)
	}
	return nil
}
