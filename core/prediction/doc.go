// Package prediction learns traffic levels per route and time slot and turns
// them into forecasts, alerts and delivery time estimates.
//
// Levels are kept in a table keyed by route, hour of day and weekday and are
// refined by an exponential moving average on every observation. Keys that
// were never observed fall back to fixed rush hour, night and daytime levels.
// Each route has its own lock so observations on different routes proceed in
// parallel.
package prediction
