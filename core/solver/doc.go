// Package solver provides the embedded convex quadratic programming layer
// used by the MPC formulation. Problems are expressed as affine vector
// expressions over named matrix variables, with sum-of-squares, linear and
// max-norm objective terms, and solved by an OSQP style ADMM iteration on
// gonum dense matrices.
//
// Binary variables are handled by solving the continuous relaxation and
// restoring integrality with a dive and fix search, which is sufficient for
// the small switch vectors that appear in device formulations.
//
// Named variables survive into the Solution so the result interpreter can
// locate each decision series by its logical name.
package solver
