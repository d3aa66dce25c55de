// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ledger holds the persistent record of every configured server,
// its resource totals, allocations and availability, and the pods deployed on it.
//
// The ledger is a single document:
//
//	{
//	    "servers": [ { "id": "srv-1", "resources": {...}, "pods": [...] } ],
//	    "config":  { "auto_refresh_enabled": true, "last_live_refresh": "..." }
//	}
//
// Every writer goes through Store.Update, which reloads the latest document,
// applies a mutation, and writes the whole document back. The file backend
// serializes writers within one process and replaces the file atomically
// (temp file, fsync, rename). The sqlite backend runs the same cycle inside an
// IMMEDIATE transaction, and the redis backend uses WATCH/MULTI with retries,
// so both also protect against writers in other processes.
//
// Backends are selected by URI:
//
//	data/master.json              file backend
//	file:///var/lib/fleet.json    file backend
//	sqlite:///var/lib/fleet.db    sqlite backend
//	redis://localhost:6379/0?key=fleet:ledger
//
// An unreadable file ledger is treated as corruption: it is logged at error
// level, a copy is kept next to it with a .corrupt suffix, and an empty
// default document is used in its place.
package ledger
