// Command livetable serves live, filtered views of PostgreSQL tables over
// HTTP and websockets.
//
// Usage:
//
//	livetable serve                               run the server
//	livetable trigger install --table app.orders  install the change trigger
//	livetable trigger drop --table app.orders     remove it
//	livetable config show --source                print the effective config
//
// Settings come from livetable.yaml and LIVETABLE_* environment variables.
package main

func main() {
	Execute()
}
