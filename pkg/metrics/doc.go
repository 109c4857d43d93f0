/*
Package metrics provides Prometheus metrics collection and exposition
for the SDK, following the same package-level MustRegister-at-init
pattern the teacher repo uses: metrics are declared as package vars,
registered once in init(), and updated in place by whichever component
owns them (discovery cache, election state machine, runtime dispatch).

Handler returns the promhttp handler an app mounts on its own HTTP
mux; this package never starts a server itself (the HTTP monitoring
facade is out of scope, per spec.md §1).
*/
package metrics
