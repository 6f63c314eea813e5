// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama API.
//
// The Client implements stream.Backend: a generic request becomes a
// streaming /api/chat call and the NDJSON response is read line by line
// into text and reasoning events.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - StreamReader: NDJSON response reader, a stream.EventStream
//   - ClientError: typed error with a Code stored on failed messages
//
// # Usage
//
//	client := ollama.NewClient(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:11434"})
//	es, err := client.Stream(ctx, stream.Request{Model: "llama3", Messages: history})
//	if err != nil {
//	    return err
//	}
//	defer es.Close()
//	for {
//	    ev, err := es.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package ollama
