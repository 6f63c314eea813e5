// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile synchronizes local conversations, settings and assets
// with a remote.Transport.
//
// The remote folder holds one object per entity: a config object carrying
// settings, folders and the conversation manifest, one object per
// conversation and one per asset. The manifest's lastModified values are the
// only remote timestamps used for diffing.
//
// # Push
//
//  1. Upload every conversation that is newer locally than in the manifest,
//     or missing remotely.
//  2. Delete remote conversations this device synced before and has since
//     deleted.
//  3. Upload local assets missing remotely; delete remote assets this device
//     synced before and has since deleted.
//  4. Write the config object with the merged manifest.
//
// The manifest is written last so that a failed upload is retried by the
// next push instead of being recorded as done.
//
// # Pull
//
//  1. Read the config object. If there is none, there is nothing to pull.
//     Settings are replaced by the remote copy; remote folders are added.
//  2. Delete local conversations that were in the last synced manifest but
//     are no longer in the remote one.
//  3. Import every manifest conversation that is newer remotely.
//  4. Download remote assets missing locally.
//
// # Conflicts
//
// Last writer wins per conversation, by lastModified. Two devices editing
// the same conversation between syncs keep whichever copy is written last;
// message lists are never merged.
//
// # Failure
//
// A failing step returns a StepError and leaves the sync metadata untouched.
// Steps already completed are not rolled back; running the sync again
// resumes it. Downloads within a step are fetched completely before any is
// applied.
package reconcile
