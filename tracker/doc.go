/*
Package tracker contains the data model of the soundmachine host.

The project is a state.Tree: tracks with lanes of processors, the external
inputs and outputs, and the connections between processors. Every change to
the tree goes through the History as an Undoable, so that it can be undone
and redone a transaction at a time.

The ProcessorGraph listens to the tree and keeps the runtime vm.Graph in
sync with it: processor nodes become processor instances and connection
nodes become edges. The audio goroutine only ever sees the runtime graph.

Connections are either custom, made by the user, or default, inferred from
the position of the processors. A producer without custom outgoing
connections is connected to the next effect below it in its lane, or to the
output of its track; track outputs go to the master track. The default
connections are recomputed after every structural change, as part of the
same transaction.

The Model ties these together and is owned by the goroutine running the
Broker. The UI calls its methods, or executes the Actions it returns, for
example model.Undo().Do().
*/
package tracker
