package model

import "time"

// ThermalModel holds the linear state space matrices of the space heating
// zones: next temperature = Ax*x + Au*u + Aw*w, where x are the previous
// zone temperatures, u the heater powers and w the external variables.
// Au is diagonal, one heater per zone.
type ThermalModel struct {
	Zones   int         `json:"thermal_zones"`
	Ax      [][]float64 `json:"x_internal_states"`
	Au      [][]float64 `json:"u_heaters"`
	Aw      [][]float64 `json:"w_external_variables"`
	SavedAt time.Time   `json:"saved_date"`
}

// Age returns how long ago the model was learned or defaulted.
func (m ThermalModel) Age(now time.Time) time.Duration {
	return now.Sub(m.SavedAt)
}

// DefaultThermalModel builds the conservative diagonally dominant fallback
// used when learning is impossible: Ax diagonal 0.98 with 0.02 coupling,
// Au diagonal 0.02, no external influence.
func DefaultThermalModel(zones int, now time.Time) ThermalModel {
	ax := make([][]float64, zones)
	au := make([][]float64, zones)
	aw := make([][]float64, zones)
	for i := 0; i < zones; i++ {
		ax[i] = make([]float64, zones)
		au[i] = make([]float64, zones)
		aw[i] = []float64{0}
		for j := 0; j < zones; j++ {
			if i == j {
				ax[i][j] = 0.98
				au[i][j] = 0.02
			} else {
				ax[i][j] = 0.02
			}
		}
	}
	return ThermalModel{Zones: zones, Ax: ax, Au: au, Aw: aw, SavedAt: now}
}
