// Package physics provides the dynamical systems a surrogate can learn.
//
// Each [System] implements [dynamo.System] for the classical RK4 reference
// and also states its equations as residual expressions, so the training
// loss and the reference solver read their constants from the same place:
//
//	sys, _ := physics.New("lorenz")
//	op, _ := residual.New(residual.Spec{
//	    Expressions: sys.Residuals(),
//	    Outputs:     sys.Variables(),
//	    Constants:   sys.GetParams(),
//	    ...
//	})
package physics
