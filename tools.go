// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

//go:build tools

// Package main pins test dependencies that only build-tagged suites import.
package main

import (
	_ "github.com/onsi/ginkgo/v2"
	_ "github.com/onsi/gomega"
)
