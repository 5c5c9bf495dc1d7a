/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package master

import (
	"fmt"
	"testing"
)

// TestWorkerEnvCarriesConfigPath guards against spawn silently dropping
// the admin's config file path when re-exec'ing a worker: every worker
// must see the same NXLITE_CONFIG_PATH the master itself was loaded
// from, not an empty string that forces config.Load to pure defaults.
func TestWorkerEnvCarriesConfigPath(t *testing.T) {
	env := workerEnv(3, "/etc/nxlite/nxlite.env")

	want := fmt.Sprintf("%s=/etc/nxlite/nxlite.env", EnvConfigPath)
	found := false
	for _, kv := range env {
		if kv == want {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("workerEnv(3, ...) does not contain %q; got %v", want, env)
	}

	wantID := fmt.Sprintf("%s=3", EnvWorkerID)
	foundID := false
	for _, kv := range env {
		if kv == wantID {
			foundID = true
			break
		}
	}
	if !foundID {
		t.Fatalf("workerEnv(3, ...) does not contain %q; got %v", wantID, env)
	}
}
