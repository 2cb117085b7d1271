// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat conversations.
//
// Each conversation is one JSON file in the store directory, written
// atomically. The store offers the get/put/delete/search operations the chat
// front-end needs:
//
//	store, err := storage.NewConversationStore(storage.Options{Dir: dir})
//	err = store.Save(conv)
//	metas, err := store.List()
//	conv, err := store.Load(metas[0].ID)
//	results, err := store.Search("query text")
package storage
