// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigdesk command tree.
//
// Commands:
//
//	rigdesk ask [prompt]        one prompt, streamed or rendered as markdown
//	rigdesk chat                interactive chat with history
//	rigdesk profiles ...        manage endpoint profiles and API keys
//	rigdesk models [--refresh]  list selectable models
//	rigdesk ping                test the active backend
//	rigdesk config ...          show, init, get and set configuration
//	rigdesk usage               local usage summary
//	rigdesk version             build information
//
// Every command returns its error; Execute maps it to an exit code and the
// text a user should see.
package cli
