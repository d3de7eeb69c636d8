package usecases

import "time"

// Lifecycle defaults
const DefaultPaymentRequestTTL = 5 * time.Minute
const DefaultExpirySweepBatch = 100

// Offline reconciliation defaults
const DefaultOfflineIntentMaxAge = 24 * time.Hour

// offlineClockSkew tolerates device clocks running slightly ahead.
const offlineClockSkew = 5 * time.Minute
